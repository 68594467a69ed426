/* Draft docs:
*
* CONFIG
* An INI file, `kittehuplodah.ini` unless `--config` says otherwise.
* * `[default] uploader` names the section describing the upload service; that section's `url` is where we go
* * `[default]` may also set `timeout`, `io-timeout`, `resolver`, `resolv-conf`, `ca`, `insecure`, `dnssec`. A flag given explicitly wins over the file
* * Only `https://` URLs are supported. The port is the URL's, or 443
*
* CONNECTION
* * The URL's host is resolved to every address it has, v4 and v6, in the order the resolver gives them
*   * `--resolver=system` (default) uses the Go std library, which is either native Go or libc's `getaddrinfo()` via CGO, at the whim of the build. The latter honours `nsswitch.conf` etc
*   * `--resolver=dns` asks resolv.conf's nameservers directly, A then AAAA, walking the search path. No /etc/hosts. Shows the CNAME chain
* * Each address is tried in turn, until one connects. No racing
* * A TLS handshake is done on that connection. No SNI `ServerName` and no ALPN are sent
*   * The served chain is verified against the URL's host (name or IP) and the system roots, or `--ca` if given
*   * `--insecure` turns verification off. The chain is still printed
* * `--timeout` bounds all of that together, and each connection attempt; `--io-timeout` bounds each read and write after
*
* DNSSEC
* `--dnssec` validates the host's A records all the way up, with code that isn't the resolver used to connect. Information only: it never stops the connection.
 */
package main
