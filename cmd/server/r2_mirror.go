package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/peterwerner/spaceship-sim/internal/persistence/r2s3"
)

type r2MirrorRuntime struct {
	enabled      bool
	rotateLayout string
	mirror       *r2s3.Mirror
}

func buildR2MirrorRuntime(dataDir string, logger *log.Logger) (*r2MirrorRuntime, error) {
	if !envBool("FLOW_R2_MIRROR", false) {
		return &r2MirrorRuntime{enabled: false}, nil
	}

	endpoint := strings.TrimSpace(os.Getenv("FLOW_R2_ENDPOINT"))
	bucket := strings.TrimSpace(os.Getenv("FLOW_R2_BUCKET"))
	accessKeyID := strings.TrimSpace(os.Getenv("FLOW_R2_ACCESS_KEY_ID"))
	secretAccessKey := strings.TrimSpace(os.Getenv("FLOW_R2_SECRET_ACCESS_KEY"))

	if endpoint == "" || bucket == "" || accessKeyID == "" || secretAccessKey == "" {
		return nil, fmt.Errorf("FLOW_R2_MIRROR=true but FLOW_R2_ENDPOINT/FLOW_R2_BUCKET/FLOW_R2_ACCESS_KEY_ID/FLOW_R2_SECRET_ACCESS_KEY are not fully set")
	}

	client, err := r2s3.New(endpoint, bucket, accessKeyID, secretAccessKey)
	if err != nil {
		return nil, err
	}

	mirror := r2s3.NewMirror(client, r2s3.MirrorConfig{
		DataDir: dataDir,
		Prefix:  strings.TrimSpace(os.Getenv("FLOW_R2_PREFIX")),
		Workers: envInt("FLOW_R2_UPLOAD_WORKERS", 2),
		Logger:  logger,
	})

	return &r2MirrorRuntime{
		enabled:      true,
		rotateLayout: "2006-01-02-15-04", // 1-minute segments
		mirror:       mirror,
	}, nil
}

func (r *r2MirrorRuntime) Close() {
	if r == nil || r.mirror == nil {
		return
	}
	r.mirror.Close()
}

func (r *r2MirrorRuntime) Enqueue(localPath string) {
	if r == nil || !r.enabled || r.mirror == nil {
		return
	}
	r.mirror.Enqueue(localPath)
}

func (r *r2MirrorRuntime) Stats() (r2s3.Stats, bool) {
	if r == nil || !r.enabled || r.mirror == nil {
		return r2s3.Stats{}, false
	}
	return r.mirror.Stats(), true
}
