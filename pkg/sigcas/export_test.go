package sigcas

import (
	"github.com/agenthands/sigcas/pkg/linkstore"
)

// NewStoreForTest constructs a Store with an injected link backend. Test-only.
func NewStoreForTest(cfg StoreConfig, links linkstore.Links) Store {
	return &store{cfg: cfg, links: links}
}
