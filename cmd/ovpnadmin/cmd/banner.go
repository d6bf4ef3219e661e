package cmd

import (
	"fmt"
)

const banner = `
                                 _           _
   _____   ___ __  _ __   __ _  __| |_ __ ___ (_)_ __
  / _ \ \ / / '_ \| '_ \ / _` + "`" + ` |/ _` + "`" + ` | '_ ` + "`" + ` _ \| | '_ \
 | (_) \ V /| |_) | | | | (_| | (_| | | | | | | | | | |
  \___/ \_/ | .__/|_| |_|\__,_|\__,_|_| |_| |_|_|_| |_|
            |_|
`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  OpenVPN Client Administration - Version %s\x1b[0m\n\n", Version)
}
