package lock

// Option applies a configuration option to the Table.
type Option func(*Table)

// WithShards sets the number of shards guarding the entry map.
func WithShards(n int) Option {
	return func(t *Table) {
		if n > 0 {
			t.shardCount = n
		}
	}
}
