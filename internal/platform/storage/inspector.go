package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	gcs "cloud.google.com/go/storage"
)

// ErrObjectMissing is returned when a referenced preview asset has not been uploaded.
var ErrObjectMissing = errors.New("storage: object not found")

// ObjectInfo is the subset of object metadata previews care about.
type ObjectInfo struct {
	ContentType string
	Size        int64
}

// Inspector confirms that an uploaded preview asset exists before it is attached to a submission.
type Inspector struct {
	client *gcs.Client
	bucket string
}

// NewInspector constructs an Inspector for bucket.
func NewInspector(client *gcs.Client, bucket string) (*Inspector, error) {
	if client == nil {
		return nil, errors.New("storage inspector: client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errInvalidBucket
	}
	return &Inspector{client: client, bucket: strings.TrimSpace(bucket)}, nil
}

// Stat returns the object's metadata or ErrObjectMissing.
func (i *Inspector) Stat(ctx context.Context, object string) (ObjectInfo, error) {
	object = strings.TrimSpace(object)
	if object == "" {
		return ObjectInfo{}, errInvalidObject
	}
	attrs, err := i.client.Bucket(i.bucket).Object(object).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return ObjectInfo{}, ErrObjectMissing
		}
		return ObjectInfo{}, fmt.Errorf("storage inspector: stat %s: %w", object, err)
	}
	return ObjectInfo{ContentType: attrs.ContentType, Size: attrs.Size}, nil
}
