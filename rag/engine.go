package rag

import (
	"github.com/mudler/ragscope/rag/interfaces"
)

// Engine is an alias for interfaces.Engine
type Engine = interfaces.Engine
