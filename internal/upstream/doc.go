// Package upstream loads the ordered list of upstream HTTP proxies that users
// are bound to. The list is read once at startup and never changes; a proxy is
// identified by its position in it.
package upstream
