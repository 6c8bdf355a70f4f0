package contract

// BountyABI is the subset of the bounty marketplace ABI the sync relies on.
// BountyPaid includes requestTxHash, which links a payout to its proof.
const BountyABI = `[
	{
		"anonymous": false,
		"inputs": [
			{"indexed": false, "internalType": "address", "name": "sender", "type": "address"},
			{"indexed": false, "internalType": "string", "name": "theorem", "type": "string"},
			{"indexed": false, "internalType": "uint256", "name": "value", "type": "uint256"}
		],
		"name": "BountyDeclared",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": false, "internalType": "bytes32", "name": "requestID", "type": "bytes32"},
			{"indexed": false, "internalType": "address", "name": "sender", "type": "address"},
			{"indexed": false, "internalType": "string", "name": "theorem", "type": "string"},
			{"indexed": false, "internalType": "uint256", "name": "value", "type": "uint256"},
			{"indexed": false, "internalType": "bytes32", "name": "requestTxHash", "type": "bytes32"}
		],
		"name": "BountyPaid",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": false, "internalType": "bytes32", "name": "requestID", "type": "bytes32"},
			{"indexed": false, "internalType": "address", "name": "sender", "type": "address"},
			{"indexed": false, "internalType": "string", "name": "theorem", "type": "string"}
		],
		"name": "BountyRequestDeclined",
		"type": "event"
	},
	{
		"inputs": [
			{"internalType": "string", "name": "theorem", "type": "string"}
		],
		"name": "declareBounty",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "string", "name": "theorem", "type": "string"},
			{"internalType": "string", "name": "proof", "type": "string"}
		],
		"name": "requestBounty",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`
