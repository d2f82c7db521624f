package server

// LegacyCommands are the RFC 775 experimental verbs. They are recognized but
// answered with "502 Command not implemented" instead of the 500 reply used
// for unknown verbs.
var LegacyCommands = []string{
	"XCUP",
	"XMKD",
	"XPWD",
	"XRCP",
	"XRMD",
	"XRSQ",
	"XSEM",
	"XSEN",
}

// commandHandlers maps verbs to their handlers. It is built once at package
// initialization and never modified afterwards.
// All handlers have the signature: func(s *session, arg string)
var commandHandlers = buildCommandTable()

func buildCommandTable() map[string]func(*session, string) {
	table := map[string]func(*session, string){
		// Navigation and file management
		"CWD":  (*session).handleCWD,
		"CDUP": (*session).handleCDUP,
		"PWD":  (*session).handlePWD,
		"LIST": (*session).handleLIST,
		"MKD":  (*session).handleMKD,
		"RMD":  (*session).handleRMD,
		"DELE": (*session).handleDELE,
		"RNFR": (*session).handleRNFR,
		"RNTO": (*session).handleRNTO,
		"SIZE": (*session).handleSIZE,

		// Transfer
		"RETR": (*session).handleRETR,
		"STOR": (*session).handleSTOR,
		"REST": (*session).handleREST,
		"TYPE": (*session).handleTYPE,
		"PASV": (*session).handlePASV,
		"PORT": (*session).handlePORT,

		// Session
		"USER": (*session).handleUSER,
		"SYST": (*session).handleSYST,
		"NOOP": (*session).handleNOOP,
		"QUIT": (*session).handleQUIT,
		"KILL": (*session).handleKILL,
	}
	for _, verb := range LegacyCommands {
		table[verb] = (*session).handleNotImplemented
	}
	return table
}
