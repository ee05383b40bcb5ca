package templates

import "embed"

// EmailFS contains the transactional email templates. Each message has an
// HTML (.html.tmpl) and a plain-text (.txt.tmpl) part sharing one data struct.
//
//go:embed email/*
var EmailFS embed.FS
