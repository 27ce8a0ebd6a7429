package uploader

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"

	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
)

// Uploader stores an image and returns the URL it can be fetched from
type Uploader interface {
	UploadImage(ctx context.Context, name string, image []byte) (string, error)
}

// Cloudinary service
type CloudinaryService struct {
	cld    *cloudinary.Cloudinary
	folder string
}

// Constuctor for cloudinary service
func NewCld(cloudName, cloudKey, cloudSecret, folder string) (*CloudinaryService, error) {
	cld, err := cloudinary.NewFromParams(cloudName, cloudKey, cloudSecret)
	if err != nil {
		return nil, err
	}
	return &CloudinaryService{cld: cld, folder: folder}, nil
}

// Upload image into cloud service, overwriting the image of the same name
func (cld *CloudinaryService) UploadImage(ctx context.Context, name string, image []byte) (string, error) {
	overwrite := true
	resp, err := cld.cld.Upload.Upload(ctx, bytes.NewReader(image), uploader.UploadParams{
		PublicID:  name,
		Folder:    cld.folder,
		Overwrite: &overwrite,
	})
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	if resp.Error.Message != "" {
		return "", fmt.Errorf("upload failed: %s", resp.Error.Message)
	}

	return resp.SecureURL, nil
}

// DataURL keeps images inline as data URLs. Used when no cloud storage is configured.
type DataURL struct{}

func (DataURL) UploadImage(ctx context.Context, name string, image []byte) (string, error) {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(image), nil
}
