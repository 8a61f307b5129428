package mediacast

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// BuildIdentifierStoreFromDSN selects a registry backend by DSN scheme. A
// bare path or file:// DSN builds a JSON file store, memory:// an in-memory
// one, postgres:// a database-backed one keyed by listKey. Database init is
// lazy; an unreachable server surfaces on first use.
func BuildIdentifierStoreFromDSN(dsn, listKey string, logger *slog.Logger) (IdentifierStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	switch scheme {
	case "", "file":
		path, pathErr := dsnPath(parsed, dsn)
		if pathErr != nil {
			return nil, pathErr
		}
		return NewFileIdentifierStore(path, logger)
	case "memory", "mem", "inmem":
		return NewInMemoryIdentifierStore(), nil
	case "postgres", "postgresql":
		store, storeErr := NewPostgresIdentifierStore(dsn, listKey, logger)
		if storeErr != nil {
			return nil, storeErr
		}
		if err := store.Reload(); err != nil {
			return nil, err
		}
		return store, nil
	case "mysql", "sqlite":
		return nil, fmt.Errorf("%w: registry backend %s", ErrNotImplemented, scheme)
	default:
		return nil, fmt.Errorf("unsupported registry backend scheme: %s", scheme)
	}
}

func dsnPath(parsed *url.URL, raw string) (string, error) {
	if parsed.Scheme == "" {
		return raw, nil
	}
	path := parsed.Path
	if parsed.Host != "" {
		path = parsed.Host + path
	}
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("%w: empty file path in DSN %q", ErrInvalidInput, raw)
	}
	return path, nil
}
