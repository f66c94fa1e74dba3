package sigcas

import (
	"github.com/agenthands/sigcas/pkg/core"
)

type Config = core.Config
type StoreConfig = core.StoreConfig
type AuthConfig = core.AuthConfig
type ServerConfig = core.ServerConfig
type LogConfig = core.LogConfig
type ScrubConfig = core.ScrubConfig
