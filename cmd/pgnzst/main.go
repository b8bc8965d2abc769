// Command pgnzst splits zstd-compressed PGN archives into rating-bucketed
// parquet files.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
