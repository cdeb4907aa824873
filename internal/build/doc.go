// Package build runs the isosplit build pipeline for a project.
//
// A build reads the entry source, splits it, writes every artifact into a
// staging directory next to the output root, bundles the client with
// esbuild, and finally swaps the staging directory into place. A failing
// build never touches the previous output.
//
// # Usage
//
//	builder := build.New(cfg, build.Options{Logger: logger})
//	result, err := builder.Build(ctx)
//	if err != nil {
//	    errors.PrintError(err)
//	    os.Exit(1)
//	}
//
//	fmt.Printf("Built %d routes in %s\n", len(result.Routes), result.Duration)
//
// # Output Structure
//
//	dist/
//	├── client/
//	│   ├── main.js          # rewritten entry
//	│   ├── proxies/<id>.js  # one proxy per route
//	│   ├── bundle.js        # bundled client (iife)
//	│   └── index.html ...   # passthrough assets from public/
//	└── server/
//	    ├── routes/<id>.js   # one handler per route
//	    ├── manifest.json    # route table
//	    ├── manifest.js
//	    ├── package.json     # {"type": "module"}
//	    └── server.js        # process entry point
//
// The process entry is public/server/server.js when the project has one;
// otherwise a built-in node dispatcher serves POST /api/_rpc/<id> and the
// client tree.
package build
