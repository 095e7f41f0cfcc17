// Command novelshelf は小説閲覧サイトのWebサーバー、同期ワーカー、マイグレーションを起動する。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/novelshelf/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
