// Package classify holds the stateless classifiers that drive stop and
// prompt handling: context-limit detection and user-abort detection over
// stop-event metadata, and keyword detection over free text.
//
// Every classifier tolerates missing or malformed input and answers
// false, nil or empty rather than failing.
package classify
