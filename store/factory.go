package store

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
)

// Options selects and configures a backend.
type Options struct {
	// Backend is the backend name; see New.
	Backend string
	// DataDir holds the files of the on-disk backends.
	DataDir string

	DynamoDBTable    string
	DynamoDBRegion   string
	DynamoDBEndpoint string

	Logger *logrus.Logger
}

// Backends lists the names New accepts.
var Backends = []string{"json", "sqlite", "bolt", "badger", "dynamodb", "memory"}

// IsBackend reports whether name is a backend New knows.
func IsBackend(name string) bool {
	for _, b := range Backends {
		if b == name {
			return true
		}
	}
	return false
}

// New creates a Backend based on the backend name.
//
// Supported backends:
//
//	"json"     - JSON files in DataDir (default)
//	"sqlite"   - SQLite database at DataDir/objectbox.db
//	"bolt"     - bbolt database at DataDir/objectbox.bolt
//	"badger"   - Badger database in DataDir/badger
//	"dynamodb" - DynamoDB table DynamoDBTable
//	"memory"   - In-memory (ephemeral, for testing)
func New(ctx context.Context, opts Options) (Backend, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.New()
	}

	var (
		b   Backend
		err error
	)
	switch opts.Backend {
	case "json", "":
		b, err = NewJsonFileStore(opts.DataDir)
	case "sqlite":
		b, err = NewSqliteStore(filepath.Join(opts.DataDir, "objectbox.db"))
	case "bolt":
		b, err = NewBoltStore(filepath.Join(opts.DataDir, "objectbox.bolt"))
	case "badger":
		b, err = NewBadgerStore(filepath.Join(opts.DataDir, "badger"))
	case "dynamodb":
		client, cerr := NewDynamoDBClient(ctx, opts.DynamoDBRegion, opts.DynamoDBEndpoint)
		if cerr != nil {
			return nil, cerr
		}
		b = NewDynamoDBStore(client, opts.DynamoDBTable)
	case "memory":
		b = NewMemoryStore()
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "%q (supported: %s)", opts.Backend, strings.Join(Backends, ", "))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s backend", opts.Backend)
	}

	log.WithFields(logrus.Fields{
		"backend": opts.Backend,
		"dataDir": opts.DataDir,
	}).Debug("store backend opened")
	return b, nil
}
