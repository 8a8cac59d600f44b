package index

import (
	"sync"

	"github.com/OvrisHQ/rove/internal/rag/parser/markdown"
	"github.com/OvrisHQ/rove/internal/rag/parser/text"
)

var registerParsersOnce sync.Once

func ensureDefaultParsers() {
	registerParsersOnce.Do(func() {
		markdown.Register()
		text.Register()
	})
}
