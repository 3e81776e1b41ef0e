// Package storage archives recording artifacts to a Supabase storage bucket.
package storage

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/supabase-community/supabase-go"
)

type Config struct {
	URL            string
	ServiceRoleKey string
	Bucket         string
}

// Archive uploads local WAV artifacts under recordings/<date>/<file>.
// Artifact filenames are unique, so one Archive serves every session.
type Archive struct {
	client *supabase.Client
	bucket string
}

func New(config Config) (*Archive, error) {
	client, err := supabase.NewClient(config.URL, config.ServiceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &Archive{client: client, bucket: config.Bucket}, nil
}

// Archive uploads the artifact at localPath. The local file is left in place
// so a reanalysis can still read it.
func (a *Archive) Archive(ctx context.Context, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open artifact: %w", err)
	}
	defer f.Close()

	key := fmt.Sprintf("recordings/%s/%s", time.Now().Format("2006-01-02"), path.Base(localPath))
	if _, err := a.client.Storage.UploadFile(a.bucket, key, f); err != nil {
		return fmt.Errorf("upload artifact to supabase: %w", err)
	}
	return nil
}
