package cloudstore

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
)

// AlbumPrefix is the key prefix holding everything mirrored for an album.
func AlbumPrefix(albumID string) string {
	return fmt.Sprintf("albums/%s/", albumID)
}

// AlbumKey is the object key of one album file.
func AlbumKey(albumID, filename string) string {
	return fmt.Sprintf("albums/%s/dicom/%s", albumID, filename)
}

// MirrorFile uploads an album file under its album key.
func (s *Store) MirrorFile(ctx context.Context, albumID, localPath string) (string, error) {
	return s.Upload(ctx, localPath, AlbumKey(albumID, filepath.Base(localPath)))
}

// DeleteAlbum removes every mirrored object of the album.
func (s *Store) DeleteAlbum(ctx context.Context, albumID string) (int, error) {
	n, err := s.DeletePrefix(ctx, AlbumPrefix(albumID))
	if err == nil {
		s.log.Debug().Str("album", albumID).Int("objects", n).Msg("removed mirrored album")
	}
	return n, err
}

// PresignAlbumFile returns a temporary download URL for a mirrored file.
func (s *Store) PresignAlbumFile(ctx context.Context, albumID, filename string, ttl time.Duration) (string, error) {
	return s.PresignGet(ctx, AlbumKey(albumID, filename), ttl)
}
