// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/go-core-stack/l8-tunnel-proxy/pkg/cmd"
)

func main() {
	if err := cmd.NewRootCommand().Execute(); err != nil {
		log.Fatal().Err(err).Msg("l8tunnel exited with error")
		os.Exit(1)
	}
}
