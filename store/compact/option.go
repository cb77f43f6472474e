package compact

const (
	defaultGroupCount    = 8
	defaultDataFileSize  = int64(1024 * 1024 * 1024)
	defaultFileCacheSize = 512
)

type config struct {
	groupCount    int
	dataFileSize  int64
	syncWrites    bool
	fileCacheSize int
}

type Option func(*config)

// apply applies the given options to this config.
func (c *config) apply(opts []Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// GroupCount is the number of shards. It is fixed at open; reopening a
// store with a different count misplaces recovered positions.
func GroupCount(groups int) Option {
	return func(c *config) {
		c.groupCount = groups
	}
}

// DataFileSize is the maximum logical size of one segment file before
// appends roll over to a new segment.
func DataFileSize(size int64) Option {
	return func(c *config) {
		c.dataFileSize = size
	}
}

// SyncWrites fsyncs the index log after every append. Off by default;
// the default durability of an append is whatever the filesystem
// guarantees for a small O_APPEND write.
func SyncWrites(sync bool) Option {
	return func(c *config) {
		c.syncWrites = sync
	}
}

// FileCacheSize is the capacity of the cache of open segment file
// handles used by reads.
func FileCacheSize(size int) Option {
	return func(c *config) {
		c.fileCacheSize = size
	}
}
