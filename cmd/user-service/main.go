// Command user-service runs the identity provider.
package main

import (
	"os"

	"github.com/TKOaly/user-service-sub000/cmd/user-service/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
