//go:build cgo && !netgo

package transport

/* There's no way to ask which resolution functions net will end up using, so this mirrors the linker's logic.
* libc is used iff cgo is on and netgo hasn't been set explicitly. CGO_ENABLED=0 doesn't set netgo, so checking netgo alone isn't enough.
*
*         netgo  !netgo
* cgo     g      c
* !cgo    g      g
 */

const SystemResolverBackend = "libc getaddrinfo(), honouring nsswitch"
