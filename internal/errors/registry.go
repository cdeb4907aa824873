package errors

import "sort"

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Split Errors (E100-E119)
	// ============================================

	"E100": {
		Category: CategoryCompile,
		Message:  "Source parse error",
		Detail:   "The entry source could not be parsed. No artifacts were written; the previous build output is unchanged.",
	},
	"E101": {
		Category: CategoryCompile,
		Message:  "Duplicate route id",
		Detail:   "Two marker calls declare the same route id, or ids that map to the same generated file. Each id must be unique within a build.",
	},
	"E102": {
		Category: CategoryCompile,
		Message:  "Unsupported marker call position",
		Detail:   "Marker calls are only split when they initialize a top-level const, let or var declaration.",
	},
	"E103": {
		Category: CategoryCompile,
		Message:  "Invalid route id",
		Detail:   "Route ids become file names and URL segments. They must be non-empty and must not contain path separators.",
	},
	"E104": {
		Category: CategoryCompile,
		Message:  "Transpile failed",
		Detail:   "A generated module could not be transpiled to JavaScript.",
	},
	"E110": {
		Category: CategoryCLI,
		Message:  "Entry file not found",
		Detail:   "The entry source configured in isosplit.json does not exist.",
	},

	// ============================================
	// Config Errors (E120-E129)
	// ============================================

	"E120": {
		Category: CategoryConfig,
		Message:  "Invalid isosplit.json",
		Detail:   "The configuration file contains invalid JSON or unknown values.",
	},
	"E121": {
		Category: CategoryConfig,
		Message:  "Missing required configuration",
		Detail:   "A required configuration value is missing.",
	},
	"E122": {
		Category: CategoryConfig,
		Message:  "Invalid port number",
		Detail:   "Port must be between 0 and 65535.",
	},

	// ============================================
	// Bundle Errors (E130-E139)
	// ============================================

	"E130": {
		Category: CategoryCompile,
		Message:  "Bundle failed",
		Detail:   "The client bundle could not be produced. The running server keeps serving the last good build.",
	},

	// ============================================
	// CLI Errors (E140-E159)
	// ============================================

	"E140": {
		Category: CategoryCLI,
		Message:  "Project directory already exists",
		Detail:   "The target directory already exists and is not empty.",
	},
	"E141": {
		Category: CategoryCLI,
		Message:  "Not an isosplit project",
		Detail:   "No isosplit.json was found in the current directory or any parent.",
	},
	"E142": {
		Category: CategoryCLI,
		Message:  "Write failed",
		Detail:   "An artifact could not be written to the output directory.",
	},
	"E143": {
		Category: CategoryRuntime,
		Message:  "Server process failed to start",
		Detail:   "The served process could not be launched from the build output.",
	},
	"E145": {
		Category: CategoryCLI,
		Message:  "Template not found",
		Detail:   "The requested project template does not exist.",
	},
	"E150": {
		Category: CategoryCLI,
		Message:  "Publish failed",
		Detail:   "Build artifacts could not be uploaded to the configured bucket.",
	},
}

// GetAllCodes returns all registered error codes in ascending order.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}

// HasCode reports whether err is a SplitError carrying code.
func HasCode(err error, code string) bool {
	for err != nil {
		if se, ok := err.(*SplitError); ok && se.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
