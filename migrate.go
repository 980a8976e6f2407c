package chatsync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	schemaKeySuffix = "/schema_version"

	// legacyOutboxKey is where releases before schema v1 persisted the queue.
	legacyOutboxKey = "outbound_queue"
)

// MigrationStep upgrades everything persisted under the namespace from
// Version-1 to Version. Apply must be idempotent: a crash between a step
// committing and the version being persisted re-runs the step on next startup.
type MigrationStep struct {
	Version int
	Name    string
	Apply   func(ctx context.Context, kv KeyValue, namespace string) error
}

// MigratorConfig defines migration behavior.
type MigratorConfig struct {
	Namespace string
	Logger    Logger
}

func (c MigratorConfig) withDefaults() MigratorConfig {
	if c.Namespace == "" {
		c.Namespace = defaultNamespace
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}

	return c
}

// MigratorOption configures the migration runner.
type MigratorOption func(*MigratorConfig)

// WithMigratorNamespace sets the key prefix used in the durable store.
func WithMigratorNamespace(namespace string) MigratorOption {
	return func(c *MigratorConfig) {
		c.Namespace = namespace
	}
}

// WithMigratorLogger sets the migration logger.
func WithMigratorLogger(logger Logger) MigratorOption {
	return func(c *MigratorConfig) {
		c.Logger = logger
	}
}

// Migrator applies an ordered list of migration steps at startup. The
// persisted version advances only after a step fully commits, so a crash
// mid-step resumes cleanly from the last persisted version.
type Migrator struct {
	kv    KeyValue
	cfg   MigratorConfig
	steps []MigrationStep
	key   string
}

// NewMigrator constructs a runner over the given steps, which must carry
// consecutive versions starting at 1.
func NewMigrator(kv KeyValue, steps []MigrationStep, opts ...MigratorOption) (*Migrator, error) {
	if kv == nil {
		return nil, ErrStoreRequired
	}

	previous := 0
	for _, step := range steps {
		if step.Version != previous+1 {
			return nil, ErrMigrationOrder
		}
		previous = step.Version
	}

	var cfg MigratorConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Migrator{
		kv:    kv,
		cfg:   cfg,
		steps: steps,
		key:   cfg.Namespace + schemaKeySuffix,
	}, nil
}

// CurrentVersion returns the version this build migrates to.
func (m *Migrator) CurrentVersion() int {
	if len(m.steps) == 0 {
		return 0
	}

	return m.steps[len(m.steps)-1].Version
}

// Run applies every step above the persisted version in order. Running twice
// performs no further side effects.
func (m *Migrator) Run(ctx context.Context) error {
	version, err := m.persistedVersion(ctx)
	if err != nil {
		return err
	}
	if version > m.CurrentVersion() {
		return fmt.Errorf("%w: persisted %d, supported %d",
			ErrSchemaDowngrade, version, m.CurrentVersion())
	}

	for _, step := range m.steps {
		if step.Version <= version {
			continue
		}

		m.cfg.Logger.Info("applying schema migration",
			"version", step.Version, "name", step.Name)
		if err := step.Apply(ctx, m.kv, m.cfg.Namespace); err != nil {
			return fmt.Errorf("chatsync: migration to v%d (%s): %w", step.Version, step.Name, err)
		}
		if err := m.persistVersion(ctx, step.Version); err != nil {
			return err
		}
	}

	return nil
}

func (m *Migrator) persistedVersion(ctx context.Context) (int, error) {
	raw, err := m.kv.Get(ctx, m.key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("chatsync: read schema version: %w", err)
	}

	version, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || version < 0 {
		m.cfg.Logger.Error("schema version corrupted, treating as 0",
			"key", m.key, "raw", string(raw))

		return 0, nil
	}

	return version, nil
}

func (m *Migrator) persistVersion(ctx context.Context, version int) error {
	if err := m.kv.Set(ctx, m.key, []byte(strconv.Itoa(version))); err != nil {
		return fmt.Errorf("chatsync: persist schema version: %w", err)
	}

	return nil
}

// DefaultMigrations returns the steps for the current schema.
func DefaultMigrations() []MigrationStep {
	return []MigrationStep{
		{
			Version: 1,
			Name:    "namespace outbound queue",
			Apply:   migrateLegacyOutbox,
		},
	}
}

// migrateLegacyOutbox moves the queue document from the un-namespaced legacy
// key to the namespaced one. Entries written before retry metadata existed
// decode with zero counts, which is the correct starting state.
func migrateLegacyOutbox(ctx context.Context, kv KeyValue, namespace string) error {
	raw, err := kv.Get(ctx, legacyOutboxKey)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	target := namespace + outboxKeySuffix
	if _, err := kv.Get(ctx, target); errors.Is(err, ErrNotFound) {
		if err := kv.Set(ctx, target, raw); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	return kv.Remove(ctx, legacyOutboxKey)
}
