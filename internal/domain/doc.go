// Package domain defines the core types and repository contracts of commhub.
//
// Files are concept-oriented (instagram.go, gmail.go, slack.go, job.go) and
// hold no implementation code. Interfaces live here so that adapters and the
// app layer never import each other.
package domain
