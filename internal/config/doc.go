// Package config loads the openclawd JSON configuration, applies defaults and
// environment overrides for secrets, and exposes typed accessors for the
// backend client, wallet sources, chain definitions, storage, events and
// polling intervals.
package config
