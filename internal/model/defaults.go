package model

import "time"

// Engine defaults shared by the config loader and the agent.
const (
	MinInterval     = 10 * time.Second
	DefaultInterval = 60 * time.Second
	HistorySize     = 100
	MainBufSize     = 4096
	DBPruneInterval = 6 * time.Hour
	MaxSleep        = 60 * time.Second
)
