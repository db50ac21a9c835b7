// @title Vision AI Box Counting API
// @version 1.0
// @description Counts boxes and extracts labels from images using a vision-language model
// @host localhost:8000
// @BasePath /
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"boxcount-server-go/internal/bootstrap"
)

func main() {
	fmt.Printf("[%s] [INFO] [BOOT] starting boxcount-server...\n", time.Now().Format("2006-01-02 15:04:05.000"))
	if err := bootstrap.Run(context.Background()); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "boxcount-server failed: %v\n", err)
		os.Exit(1)
	}
}
