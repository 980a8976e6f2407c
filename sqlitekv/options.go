package sqlitekv

const defaultTable = "chatsync_kv"

// Config defines store behavior.
type Config struct {
	Table string
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = defaultTable
	}

	return c
}

// Option configures the SQLite store.
type Option func(*Config)

// WithTable sets the key-value table name.
func WithTable(name string) Option {
	return func(c *Config) {
		c.Table = name
	}
}

func validTableName(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}

	return true
}
