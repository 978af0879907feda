package capability

import (
	"context"

	"github.com/kaori/plughost/pkg/host"
	"github.com/kaori/plughost/pkg/manifest"
)

// Secrets stores credentials in the host keychain, namespaced per plugin.
type Secrets struct {
	gate *gate
}

// Get retrieves a secret. A missing key returns ("", false, nil).
func (s *Secrets) Get(ctx context.Context, key string) (string, bool, error) {
	res, err := s.gate.call(ctx, "secrets", manifest.PermissionSecrets, "secrets.get", host.Args{
		"key": key,
	})
	if err != nil {
		return "", false, err
	}
	if found, ok := res["found"].(bool); ok && !found {
		return "", false, nil
	}
	return resultString(res, "value"), true, nil
}

// Set stores a secret.
func (s *Secrets) Set(ctx context.Context, key, value string) error {
	_, err := s.gate.call(ctx, "secrets", manifest.PermissionSecrets, "secrets.set", host.Args{
		"key":   key,
		"value": value,
	})
	return err
}

// Delete removes a secret.
func (s *Secrets) Delete(ctx context.Context, key string) error {
	_, err := s.gate.call(ctx, "secrets", manifest.PermissionSecrets, "secrets.delete", host.Args{
		"key": key,
	})
	return err
}
