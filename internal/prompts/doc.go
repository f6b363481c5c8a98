// Package prompts holds the fixed texts SpectrumBot sends: fallback
// replies the loop returns when it cannot get an answer from the model,
// command replies, and the nudges sent to the model itself.
//
// Texts are Go constants rather than config because the loop depends on
// them; the shop-specific SOP lives in the policy package.
package prompts
