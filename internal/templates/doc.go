// Package templates provides project scaffolding for isosplit create.
//
// # Available Templates
//
//   - ts: TypeScript entry and marker modules
//   - js: JavaScript entry and marker modules
//
// Both write isosplit.json, framework/api, framework/api-client,
// framework/sql, src/index and public/index.html.
//
// # Template Variables
//
//	{{.ProjectName}}  - Name of the project
//	{{.Port}}         - Dev server port
//	{{.Ext}}          - Source extension (ts or js)
package templates
