// Phrase-weighted moderation engine for group chats.
//
// This package (`github.com/bluesky-social/banword/automod`) wires together a banned phrase index (`automod/keyword`), a per-subject score ledger (`automod/scorestore`), an escalation policy (`automod/policy`) and a report formatter (`automod/report`). Each inbound message is matched against its scope's phrases; matches add a weighted penalty to the sender's score, which either produces a warning or, once the scope's threshold is reached, an escalation (mute) and a score reset.
//
// The chat platform itself is reached only through the `Moderator` and `Notifier` capabilities. See `cmd/banword` for a daemon built on this package.
package automod
