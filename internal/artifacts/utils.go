package artifacts

import (
	"fmt"
	"strings"
)

func PathFromURI(uri string) (string, error) {
	if !strings.HasPrefix(uri, "file://") {
		return "", fmt.Errorf("not a file:// URI: %q", uri)
	}
	return strings.TrimPrefix(uri, "file://"), nil
}

func FileURI(path string) string {
	return "file://" + path
}

// ObjectURI renders an object storage location as s3://bucket/key.
func ObjectURI(bucket, key string) string {
	return "s3://" + bucket + "/" + strings.TrimPrefix(key, "/")
}
