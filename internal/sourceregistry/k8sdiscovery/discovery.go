package k8sdiscovery

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	corev1 "k8s.io/api/core/v1"

	"github.com/vitaliisemenov/etl-signal-loader/internal/core/domain"
)

// Secret data keys a source-database descriptor Secret is expected to
// carry. The Secret's own name becomes the db_code.
const (
	KeyKind     = "kind"
	KeyHost     = "host"
	KeyPort     = "port"
	KeyDatabase = "database"
	KeyUsername = "username"
	KeyPassword = "password"
)

// DefaultLabelSelector selects Secrets that describe source databases,
// as opposed to any other Secret living in the same namespace.
const DefaultLabelSelector = "etl-source-database=true"

// Discovery turns labelled Kubernetes Secrets into domain.SourceDatabase
// descriptors, feeding Registry.ReloadAll from a source of truth the
// platform team can manage with kubectl/GitOps instead of SQL.
type Discovery struct {
	client    K8sClient
	namespace string
	selector  string
	logger    *slog.Logger
}

// NewDiscovery creates a Discovery over the given namespace. selector
// defaults to DefaultLabelSelector when empty.
func NewDiscovery(client K8sClient, namespace, selector string, logger *slog.Logger) *Discovery {
	if selector == "" {
		selector = DefaultLabelSelector
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discovery{client: client, namespace: namespace, selector: selector, logger: logger}
}

// Discover lists matching Secrets and decodes each into a SourceDatabase.
// A malformed Secret is logged and skipped rather than failing the whole
// call, matching ReloadAll's per-row fault isolation.
func (d *Discovery) Discover(ctx context.Context) ([]domain.SourceDatabase, error) {
	secrets, err := d.client.ListSecrets(ctx, d.namespace, d.selector)
	if err != nil {
		return nil, fmt.Errorf("k8sdiscovery: list secrets: %w", err)
	}

	out := make([]domain.SourceDatabase, 0, len(secrets))
	for _, secret := range secrets {
		desc, err := decodeSecret(secret)
		if err != nil {
			d.logger.Error("skipping malformed source database secret",
				"secret", secret.Name, "namespace", secret.Namespace, "error", err)
			continue
		}
		out = append(out, desc)
	}
	return out, nil
}

func decodeSecret(secret corev1.Secret) (domain.SourceDatabase, error) {
	get := func(key string) (string, bool) {
		v, ok := secret.Data[key]
		return string(v), ok && len(v) > 0
	}

	kind, ok := get(KeyKind)
	if !ok {
		return domain.SourceDatabase{}, fmt.Errorf("missing %q", KeyKind)
	}
	host, ok := get(KeyHost)
	if !ok {
		return domain.SourceDatabase{}, fmt.Errorf("missing %q", KeyHost)
	}
	portStr, ok := get(KeyPort)
	if !ok {
		return domain.SourceDatabase{}, fmt.Errorf("missing %q", KeyPort)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return domain.SourceDatabase{}, fmt.Errorf("invalid %q: %w", KeyPort, err)
	}
	database, ok := get(KeyDatabase)
	if !ok {
		return domain.SourceDatabase{}, fmt.Errorf("missing %q", KeyDatabase)
	}
	username, ok := get(KeyUsername)
	if !ok {
		return domain.SourceDatabase{}, fmt.Errorf("missing %q", KeyUsername)
	}
	password, ok := get(KeyPassword)
	if !ok {
		return domain.SourceDatabase{}, fmt.Errorf("missing %q", KeyPassword)
	}

	desc := domain.SourceDatabase{
		Code:     secret.Name,
		Kind:     domain.SourceKind(kind),
		Host:     host,
		Port:     port,
		Database: database,
		Username: username,
		Password: password,
	}
	if !desc.Kind.Valid() {
		return domain.SourceDatabase{}, fmt.Errorf("unsupported kind %q", kind)
	}
	return desc, nil
}
