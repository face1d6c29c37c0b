package main

import "fmt"

// Banner split into "tool" (teal) and "gate" (white) parts.
// Based on Doom 2 font from patorjk.com/software/taag
// Lines are padded to a fixed width so the columns line up.
var bannerTool = []string{
	` _              _  `,
	`| |            | | `,
	`| |_ ___   ___ | | `,
	`| __/ _ \ / _ \| | `,
	`| || (_) | (_) | | `,
	` \__\___/ \___/|_| `,
	`                   `,
	`                   `,
}

var bannerGate = []string{
	`             _`,
	`            | |`,
	`  __ _  __ _| |_ ___`,
	` / _` + "`" + ` |/ _` + "`" + ` | __/ _ \`,
	`| (_| | (_| | ||  __/`,
	` \__, |\__,_|\__\___|`,
	`  __/ |`,
	` |___/`,
}

// printBanner prints the ASCII logo with "tool" in teal and "gate" in white.
func printBanner() {
	const (
		colorTeal  = "\033[38;2;20;184;166m"
		colorWhite = "\033[97m"
		reset      = "\033[0m"
	)

	for i := 0; i < len(bannerGate); i++ {
		fmt.Print(colorTeal + bannerTool[i] + reset)
		fmt.Print(colorWhite + bannerGate[i] + reset)
		fmt.Println()
	}
	fmt.Println()
}
