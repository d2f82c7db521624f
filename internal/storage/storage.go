// Package storage builds the afero filesystem served by ftpd.
package storage

import (
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	dropbox "github.com/fclairamb/afero-dropbox"
	s3 "github.com/fclairamb/afero-s3"
	"github.com/spf13/afero"

	"github.com/gonzalop/ftpd/internal/config"
)

// ErrMissingToken is returned if a dropbox token wasn't specified.
var ErrMissingToken = errors.New("missing dropbox token")

// UnsupportedFsError is returned when the storage type is not supported.
type UnsupportedFsError struct {
	Type string
}

func (err *UnsupportedFsError) Error() string {
	return fmt.Sprintf("unsupported storage type: %q", err.Type)
}

// New creates the filesystem described by cfg, wrapped read-only when
// cfg.ReadOnly is set.
func New(cfg config.StorageConfig) (afero.Fs, error) {
	var (
		fs  afero.Fs
		err error
	)
	switch cfg.Type {
	case "os", "":
		fs, err = newOsFs(cfg.Root)
	case "memory":
		fs = afero.NewMemMapFs()
	case "s3":
		fs, err = newS3Fs(cfg.S3)
	case "dropbox":
		fs, err = newDropboxFs(cfg.Dropbox)
	default:
		err = &UnsupportedFsError{Type: cfg.Type}
	}
	if err != nil {
		return nil, err
	}

	if cfg.ReadOnly {
		fs = afero.NewReadOnlyFs(fs)
	}
	return fs, nil
}

// newOsFs jails the host filesystem below root.
func newOsFs(root string) (afero.Fs, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("storage root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage root is not a directory: %s", root)
	}
	return afero.NewBasePathFs(afero.NewOsFs(), root), nil
}

func newS3Fs(cfg config.S3Config) (afero.Fs, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3: bucket is required")
	}

	awsCfg := &aws.Config{
		Region:           aws.String(cfg.Region),
		S3ForcePathStyle: aws.Bool(cfg.PathStyle),
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
	}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("s3: create session: %w", err)
	}
	return s3.NewFs(cfg.Bucket, sess), nil
}

func newDropboxFs(cfg config.DropboxConfig) (afero.Fs, error) {
	token := cfg.Token
	if token == "" {
		token = os.Getenv("DROPBOX_TOKEN")
	}
	if token == "" {
		return nil, ErrMissingToken
	}
	return dropbox.NewFs(token), nil
}
