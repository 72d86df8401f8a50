package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"worldweaver.app/internal/persistence/r2s3"
)

type r2MirrorRuntime struct {
	enabled bool
	mirror  *r2s3.Mirror
}

func buildR2MirrorRuntime(dataDir string, logger *log.Logger) (*r2MirrorRuntime, error) {
	if !envBool("WW_R2_MIRROR", false) {
		return &r2MirrorRuntime{enabled: false}, nil
	}

	endpoint := strings.TrimSpace(os.Getenv("WW_R2_ENDPOINT"))
	bucket := strings.TrimSpace(os.Getenv("WW_R2_BUCKET"))
	accessKeyID := strings.TrimSpace(os.Getenv("WW_R2_ACCESS_KEY_ID"))
	secretAccessKey := strings.TrimSpace(os.Getenv("WW_R2_SECRET_ACCESS_KEY"))
	if endpoint == "" || bucket == "" || accessKeyID == "" || secretAccessKey == "" {
		return nil, fmt.Errorf("WW_R2_MIRROR=true but WW_R2_ENDPOINT/WW_R2_BUCKET/WW_R2_ACCESS_KEY_ID/WW_R2_SECRET_ACCESS_KEY are not fully set")
	}

	client, err := r2s3.New(endpoint, bucket, accessKeyID, secretAccessKey)
	if err != nil {
		return nil, err
	}
	return &r2MirrorRuntime{
		enabled: true,
		mirror: r2s3.NewMirror(client, r2s3.MirrorConfig{
			DataDir: dataDir,
			Prefix:  strings.TrimSpace(os.Getenv("WW_R2_PREFIX")),
			Workers: envInt("WW_R2_UPLOAD_WORKERS", 2),
			Logger:  logger,
		}),
	}, nil
}

func (r *r2MirrorRuntime) Close() {
	if r == nil || r.mirror == nil {
		return
	}
	r.mirror.Close()
}

// onClose is the journal rotation hook; nil when mirroring is off.
func (r *r2MirrorRuntime) onClose() func(string) {
	if r == nil || !r.enabled {
		return nil
	}
	return r.mirror.Enqueue
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
