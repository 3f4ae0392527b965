// Command keygen prints a fresh token sealing key for TB_ENCRYPTION_KEY.
package main

import (
	"fmt"
	"os"

	"github.com/erauner12/tablebridge/internal/creds"
)

func main() {
	key, err := creds.GenerateKey()
	if err != nil {
		fmt.Fprintln(os.Stderr, "keygen:", err)
		os.Exit(1)
	}
	fmt.Println(key)
}
