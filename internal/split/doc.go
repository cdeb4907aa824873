// Package split turns one annotated JavaScript or TypeScript module into a
// client module, per-route server handlers and client proxies, and a route
// table.
//
// A route is declared by initializing a top-level binding with the marker:
//
//	const hello = $api("hello", async (props) => {
//	  return { ok: true }
//	})
//
// Detect finds these declarations purely syntactically. The handler literal is
// kept as an opaque fragment: it is excised verbatim, re-embedded in a server
// handler module, and never analyzed further. Imports it relies on are not
// resolved.
//
// # Artifacts
//
//	server/routes/<id>.js   handler(payload) -> impl(payload, context)
//	client/proxies/<id>.js  POST /api/_rpc/<id> with a JSON body
//	client/main.js          rewritten entry importing the proxies
//	server/manifest.json    ordered [{id, handlerPath, clientPath}]
//
// All functions are pure with respect to package state; a build threads its
// routes through return values only.
package split
