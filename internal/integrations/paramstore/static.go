package paramstore

import (
	"context"
	"fmt"
)

// Static serves parameters from a fixed map. The local CLI uses it to feed
// environment-provided tokens through the same Getter path as SSM.
type Static map[string]string

func (s Static) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("paramstore: parameter %q not found", name)
	}
	return v, nil
}
