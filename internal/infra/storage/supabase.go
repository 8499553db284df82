package storage

import (
	"bytes"
	"fmt"

	"github.com/supabase-community/supabase-go"
)

// SupabaseStore uploads artifacts to a Supabase storage bucket.
type SupabaseStore struct {
	client *supabase.Client
	bucket string
}

func NewSupabaseStore(url, serviceRoleKey, bucket string) (*SupabaseStore, error) {
	client, err := supabase.NewClient(url, serviceRoleKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &SupabaseStore{client: client, bucket: bucket}, nil
}

func (s *SupabaseStore) Put(key, _ string, data []byte) (string, error) {
	if _, err := s.client.Storage.UploadFile(s.bucket, key, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("upload to supabase: %w", err)
	}
	return fmt.Sprintf("%s/%s", s.bucket, key), nil
}
