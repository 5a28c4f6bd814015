// Package policy loads the transport security policy document that can
// replace the flag-derived redirect and HSTS settings at startup.
//
// A document looks like:
//
//	{
//	  "redirect": {"port": 8443, "protocols": "both"},
//	  "hsts": {"duration": 600, "include_subdomains": true, "preload": false}
//	}
//
// The same document may be written as YAML when the file or object name ends
// in .yaml or .yml. Documents are read from a local file, an SSM parameter or
// an S3 object.
package policy
