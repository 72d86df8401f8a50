package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"worldweaver.app/internal/persistence/indexdb"
	"worldweaver.app/internal/sim/terrain"
)

func worldsCmd(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("worlds", flag.ContinueOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite index path (default: <data>/index/worlds.sqlite)")
	limit := fs.Int("limit", 20, "result limit")
	asJSON := fs.Bool("json", false, "print JSON lines")
	if err := fs.Parse(args); err != nil {
		return terrain.Validationf("worlds", "%v", err)
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "worlds.sqlite")
	}

	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		return terrain.IOErr("worlds", err)
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rows, err := idx.ListWorlds(ctx, *limit)
	if err != nil {
		return terrain.IOErr("worlds", err)
	}
	for _, r := range rows {
		if *asJSON {
			printJSON(out, r)
			continue
		}
		n, err := idx.CommandCount(ctx, r.WorldID)
		if err != nil {
			return terrain.IOErr("worlds", err)
		}
		fmt.Fprintf(out, "%s  %-36s %5dx%-5d %8s  land=%4.1f%% %-12s cmds=%-6d %s\n",
			r.SavedAt.Format("2006-01-02 15:04"), r.WorldID, r.Width, r.Height,
			humanize.Bytes(uint64(r.Bytes)), r.LandFraction*100, r.DominantBiome, n, r.Path)
	}
	if !*asJSON {
		fmt.Fprintf(out, "%d worlds\n", len(rows))
	}
	return nil
}

func printJSON(out io.Writer, v any) {
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
