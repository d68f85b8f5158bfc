// Package ingest turns CrowdTangle post exports into the inputs of the
// clustering core: content groups (the pages that published each unique
// piece of content) and per-page metadata.
//
// Posts are keyed by their content: the message, image text, canonical
// external link and link text joined together. URLs are canonicalized so
// tracking parameters do not split otherwise identical shares.
package ingest
