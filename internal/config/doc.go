// Package config provides configuration parsing for isosplit projects.
//
// The configuration is stored in isosplit.json at the project root. A project
// without the file builds with defaults rooted at the working directory.
//
// # Configuration File Structure
//
//	{
//	  "entry": "src/index.ts",
//	  "marker": {
//	    "name": "$api",
//	    "module": "framework/api",
//	    "clientModule": "framework/api-client"
//	  },
//	  "public": "public",
//	  "dev": {
//	    "port": 3000,
//	    "watch": ["src", "framework", "public"],
//	    "debounce": "400ms",
//	    "hotReload": true
//	  },
//	  "build": {
//	    "output": "dist",
//	    "minify": false,
//	    "sourceMaps": true,
//	    "target": "es2019"
//	  },
//	  "publish": {
//	    "bucket": "my-site",
//	    "prefix": "app"
//	  }
//	}
//
// The PORT environment variable (optionally from a .env file at the project
// root) selects the served process's port and overrides dev.port.
package config
