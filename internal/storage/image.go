package storage

import (
	"context"
	"fmt"
)

// ImageExists checks whether an image is present in the images pool.
func (m *Manager) ImageExists(ctx context.Context, imageName string) (bool, error) {
	return m.VolumeExists(ctx, ImagesPool, imageName)
}

// GetImagePath returns the filesystem path of an image in the images pool.
func (m *Manager) GetImagePath(ctx context.Context, imageName string) (string, error) {
	path, err := m.GetVolumePath(ctx, ImagesPool, imageName)
	if err != nil {
		return "", fmt.Errorf("image %s: %w", imageName, err)
	}
	return path, nil
}

// ListImages lists all volumes in the images pool.
func (m *Manager) ListImages(ctx context.Context) ([]VolumeInfo, error) {
	return m.ListVolumes(ctx, ImagesPool)
}
