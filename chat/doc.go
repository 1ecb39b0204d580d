// Package chat connects the bot to Twitch IRC.
//
// Client joins TWITCH_CHANNEL as TWITCH_BOT_USERNAME, converts every PRIVMSG
// into a model.ChatMessage and hands it to the configured Handler. Messages
// are delivered one at a time from the IRC read loop. Replies go back out
// through Client.Say, which the dispatcher uses as its Replier.
//
// The IRC token needs the chat:read and chat:edit scopes. A leading "oauth:"
// is added when missing.
package chat
