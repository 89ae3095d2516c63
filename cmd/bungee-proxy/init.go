package main

import (
	"fmt"
	"os"
)

const configTemplate = `{
  "bodyParserLimit": "10mb",
  "port": 8088,
  "workerCount": 2,
  "logLevel": "info",
  "routes": [
    {
      "path": "/v1",
      "upstreams": [
        { "target": "http://localhost:9000", "weight": 100, "priority": 1 }
      ],
      "failover": { "enabled": true, "retryableStatusCodes": [502, 503, 504] },
      "healthCheck": { "enabled": true, "intervalSeconds": 30 }
    }
  ]
}
`

// runInit generates a starter config.json in the current directory.
func runInit() error {
	const filename = "config.json"

	if _, err := os.Stat(filename); err == nil {
		return fmt.Errorf("%s already exists, refusing to overwrite", filename)
	}

	if err := os.WriteFile(filename, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("write %s: %w", filename, err)
	}

	fmt.Printf("generated %s\n", filename)
	fmt.Println("next steps:")
	fmt.Println("  1. edit config.json to list your routes and upstreams")
	fmt.Println("  2. ./bungee-proxy")

	return nil
}
