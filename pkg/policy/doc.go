// Package policy evaluates operator-supplied Rego rules over turn facts,
// letting deployments deny traffic the built-in pattern tables would
// allow (for example "reject any high-risk turn that needed redaction").
//
// The engine embeds OPA, compiles modules at construction, and caches
// decisions in an LRU keyed on the full evaluation input. Rules never see
// message text, only classifications, so policy evaluation cannot leak
// content. The subpackage patterns holds the regex catalog the validators
// run before this hook.
package policy
