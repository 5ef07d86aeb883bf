package storage

import (
	"fmt"
	"strings"
)

const previewPrefix = "previews/orders/"

// PreviewObjectPath lays out a preview proof as previews/orders/{order}/items/{item}/{upload}/{file}.
func PreviewObjectPath(orderID, orderItemID, uploadID, fileName string) (string, error) {
	segments := []struct{ name, value string }{
		{"orderID", orderID},
		{"orderItemID", orderItemID},
		{"uploadID", uploadID},
		{"fileName", fileName},
	}
	clean := make([]string, len(segments))
	for i, seg := range segments {
		value, err := validateSegment(seg.name, seg.value)
		if err != nil {
			return "", err
		}
		clean[i] = value
	}
	return fmt.Sprintf("%s%s/items/%s/%s/%s", previewPrefix, clean[0], clean[1], clean[2], clean[3]), nil
}

// BelongsToOrder reports whether object was laid out by PreviewObjectPath for orderID, so a seller
// cannot attach another order's asset to a preview.
func BelongsToOrder(object, orderID string) bool {
	if orderID == "" || strings.Contains(object, "..") {
		return false
	}
	return strings.HasPrefix(object, previewPrefix+orderID+"/items/")
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
