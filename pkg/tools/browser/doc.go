// Package browser implements the page operations: navigation, element
// interaction, content extraction, evaluation and screenshots, plus the
// session and daemon status operations.
//
// Page operations share one calling convention. A missing url, selector or
// output path is inherited from the profile's context record, relative URLs
// are joined to the runtime's baseUrl, and the page is only navigated when
// it is not already at the target URL. On success each operation reports a
// context delta so the next command can omit the same arguments.
package browser
